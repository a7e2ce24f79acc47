package dto

// ChallengeResponse carries a freshly generated visual challenge. The client
// renders both images, captures the rotation angle the user applies and sends
// it back with the challenge ID on the next submission attempt.
type ChallengeResponse struct {
	ChallengeID string `json:"challengeId" example:"7b9e41d2-9f04-4c7a-b1a4-1f2fda1c6c6e"`
	MasterImage string `json:"masterImage"`
	ThumbImage  string `json:"thumbImage"`
}
