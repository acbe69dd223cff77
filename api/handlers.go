package api

import (
	"github.com/visionsuite/backend/database"
	"github.com/visionsuite/backend/services"
	"github.com/visionsuite/backend/storage"
	"github.com/visionsuite/backend/training"
)

// initializeHandlers creates and returns all handlers organized in a routeHandlers struct
func initializeHandlers(database database.Database, blobs storage.BlobStore, engine services.Engine, scheduler *training.Scheduler, jwtSecret, baselineArtifact string) *routeHandlers {
	return &routeHandlers{
		authHandler:       newAuthHandler(database.UserRepo(), jwtSecret),
		projectHandler:    newProjectHandler(database.ProjectRepo(), blobs),
		imageHandler:      newImageHandler(database.ProjectRepo(), database.ImageRepo(), database.LabelRepo(), blobs),
		trainingHandler:   newTrainingHandler(database.ProjectRepo(), database.TrainingConfigRepo(), database.IterationRepo(), scheduler),
		deploymentHandler: newDeploymentHandler(database.ProjectRepo(), database.IterationRepo(), database.DeploymentRepo()),
		inferenceHandler:  newInferenceHandler(database.DeploymentRepo(), database.IterationRepo(), engine, baselineArtifact),
	}
}
