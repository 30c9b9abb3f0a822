package transfer

import "github.com/golang-jwt/jwt/v5"

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type PostCreation struct {
	Caption          string
	Title            string
	PrivacyLevel     string
	ScheduledTime    string
	SelectedAccounts string
	IsDraft          bool
	IsSlideshow      bool
}
