// Package dto
package dto

// AdminLoginRequest represents an admin login attempt
type AdminLoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64" example:"admin"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// AdminLoginResponse carries the issued admin token
type AdminLoginResponse struct {
	AccessToken string `json:"access_token" example:"jwt"`
	TokenType   string `json:"token_type" example:"Bearer"`
	ExpiresIn   int    `json:"expires_in" example:"86400"`
}

// AdminOverviewResponse summarizes pipeline health for the admin dashboard
type AdminOverviewResponse struct {
	PredictionCount int64  `json:"prediction_count" example:"1543"`
	RequestsToday   int64  `json:"requests_today" example:"4820"`
	DailyLimit      int64  `json:"daily_limit" example:"50000"`
	CapacityLevel   string `json:"capacity_level" example:"normal"`
	QueueDepth      int64  `json:"queue_depth" example:"0"`
	Median          string `json:"median,omitempty" example:"2047-03-20"`
}
