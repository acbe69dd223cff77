package api

// routeHandlers contains all the handlers for different route types
type routeHandlers struct {
	authHandler       authHandler
	projectHandler    projectHandler
	imageHandler      imageHandler
	trainingHandler   trainingHandler
	deploymentHandler deploymentHandler
	inferenceHandler  inferenceHandler
}

// ErrorResponse represents an error response from the API
// @Description Error response structure
type ErrorResponse struct {
	Error   string `json:"error" example:"project not found"`
	Status  string `json:"status" example:"error"`
	Field   string `json:"field,omitempty" example:"name"`
	Details string `json:"details,omitempty" example:"Additional error details"`
}
