package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/auth-lifecycle/internal/config"
)

// Routes groups what RegisterRoutes mounts
type Routes struct {
	Auth         *AuthHandler
	Profile      *ProfileHandler
	Authenticate gin.HandlerFunc
	RateLimit    *RateLimit
	Limits       config.SecurityConfig
}

// RegisterRoutes mounts the login and user routes on group
func RegisterRoutes(group gin.IRouter, r Routes) {
	general := r.RateLimit.Policy("general", r.Limits.GeneralLimit)

	login := group.Group("/login")
	{
		login.POST("/google-login", general, r.Auth.GoogleLogin)
		login.POST("/register", r.RateLimit.Policy("register", r.Limits.RegisterLimit), r.Auth.Register)
		login.POST("/verify-email", general, r.Auth.VerifyEmail)
		login.POST("/sign-in", r.RateLimit.Policy("sign_in", r.Limits.SignInLimit), r.Auth.SignIn)
		login.POST("/refresh-token", general, r.Auth.RefreshToken)

		lost := login.Group("/lost-password")
		lost.POST("/request-reset", r.RateLimit.Policy("reset", r.Limits.ResetLimit), r.Auth.RequestReset)
		lost.POST("/reset-password", general, r.Auth.ResetPassword)
	}

	user := group.Group("/auth/user", r.Authenticate)
	{
		user.GET("/show", r.Profile.Show)
		user.PUT("/update", r.Profile.Update)
	}
}
