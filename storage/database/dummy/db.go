// Package dummydb provides in-memory repositories for tests.
package dummydb

import (
	"sync"

	"github.com/trezcool/mnada/core/auction"
	"github.com/trezcool/mnada/core/notification"
	"github.com/trezcool/mnada/core/school"
	"github.com/trezcool/mnada/core/user"
)

type (
	DB struct {
		user         *userTable
		school       *schoolTable
		auction      *auctionTable
		notification *notificationTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	schoolTable struct {
		sync.RWMutex
		table map[string]*school.School
	}

	auctionTable struct {
		sync.RWMutex
		auctions map[string]*auction.Auction
		artworks map[string]*auction.Artwork
		bids     map[string]*auction.Bid
	}

	notificationTable struct {
		sync.RWMutex
		table map[string]*notification.Notification
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:   &userTable{table: make(map[string]*user.User)},
		school: &schoolTable{table: make(map[string]*school.School)},
		auction: &auctionTable{
			auctions: make(map[string]*auction.Auction),
			artworks: make(map[string]*auction.Artwork),
			bids:     make(map[string]*auction.Bid),
		},
		notification: &notificationTable{table: make(map[string]*notification.Notification)},
	}
	return db, nil
}
