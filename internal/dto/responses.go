package dto

// TokenPairResponse is returned by the sign-in flows
type TokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AccessTokenResponse is returned by the refresh flow
type AccessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// ProfileResponse represents the profile of the signed-in user
type ProfileResponse struct {
	Name        string  `json:"name"`
	FamilyName  string  `json:"family_name"`
	PictureURL  *string `json:"picture_url"`
	Email       string  `json:"email"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
