package user

import (
	"errors"

	"github.com/pquerna/otp/totp"

	"github.com/trezcool/mnada/core"
)

var (
	ErrTOTPNotSetUp    = errors.New("two-factor authentication has not been set up")
	ErrTOTPAlreadySet  = errors.New("two-factor authentication is already enabled")
	ErrInvalidTOTPCode = errors.New("invalid verification code")
)

// TOTPSetup is returned once, right after generating a new TOTP secret.
// The secret is never exposed again afterwards.
type TOTPSetup struct {
	Secret string `json:"secret"`
	URL    string `json:"url"` // otpauth:// URL for authenticator apps
}

// generateTOTPSecret creates a fresh TOTP secret for the given account.
func generateTOTPSecret(accountName string) (*TOTPSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      core.Conf.AppName,
		AccountName: accountName,
	})
	if err != nil {
		return nil, err
	}
	return &TOTPSetup{Secret: key.Secret(), URL: key.URL()}, nil
}

// validateTOTPCode checks a time-based code against the stored secret.
func validateTOTPCode(code, secret string) bool {
	return totp.Validate(code, secret)
}
