package api

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes wires the public surface (registration, login, inference)
// and the owner-session surface behind JWT authentication.
func setupRoutes(r chi.Router, handlers *routeHandlers, authMiddleware authMiddleware) {
	// Public routes. Inference authenticates with an API key, not a session.
	r.Group(func(r chi.Router) {
		r.Use(ColoredHTTPLoggingMiddleware)

		r.Post("/register", handlers.authHandler.register())
		r.Post("/login", handlers.authHandler.login())
		r.Post("/inference", handlers.inferenceHandler.infer())
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.authenticate)
		r.Use(ColoredHTTPLoggingMiddleware)

		// Project endpoints
		r.Get("/projects", handlers.projectHandler.listProjects())
		r.Post("/project", handlers.projectHandler.createProject())
		r.Delete("/project/{projectID}", handlers.projectHandler.deleteProject())

		// Image and label endpoints
		r.Post("/project/{projectID}/image", handlers.imageHandler.uploadImage())
		r.Get("/project/{projectID}/images", handlers.imageHandler.listImages())
		r.Delete("/project/{projectID}/image/{imageID}", handlers.imageHandler.deleteImage())
		r.Post("/project/{projectID}/image/{imageID}/label", handlers.imageHandler.addLabel())
		r.Get("/project/{projectID}/analyze", handlers.imageHandler.analyze())

		// Training endpoints
		r.Put("/project/{projectID}/training-config", handlers.trainingHandler.setTrainingConfig())
		r.Get("/project/{projectID}/training-config", handlers.trainingHandler.getTrainingConfig())
		r.Post("/project/{projectID}/iteration", handlers.trainingHandler.startIteration())
		r.Get("/project/{projectID}/iterations", handlers.trainingHandler.listIterations())
		r.Get("/project/{projectID}/iteration/{iterationID}", handlers.trainingHandler.getIteration())

		// Deployment endpoints
		r.Post("/project/{projectID}/deployment", handlers.deploymentHandler.deploy())
		r.Get("/project/{projectID}/deployments", handlers.deploymentHandler.listDeployments())
		r.Post("/project/{projectID}/deployment/{deploymentID}/deactivate", handlers.deploymentHandler.deactivate())
	})
}
