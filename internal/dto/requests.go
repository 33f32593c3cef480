package dto

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Name         string `json:"name"`
	FamilyName   string `json:"family_name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	DateOfBirth  string `json:"date_of_birth"` // YYYY-MM-DD, optional
	LastLocation string `json:"last_location"`
}

// SignInRequest represents a password sign-in request
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GoogleLoginRequest carries a Google ID token obtained by the frontend
type GoogleLoginRequest struct {
	IDToken string `json:"idToken"`
}

// VerifyEmailRequest represents an email verification request
type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// RefreshTokenRequest represents a refresh token request
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RequestResetRequest starts the lost password flow
type RequestResetRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest completes the lost password flow
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// UpdateProfileRequest is assembled from the multipart profile form. Nil
// fields were absent from the form and are left unchanged.
type UpdateProfileRequest struct {
	Name       *string
	FamilyName *string
	Image      *ImageUpload
}

// ImageUpload is an image file received with a profile update
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}
