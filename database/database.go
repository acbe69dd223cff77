package database

import (
	"gorm.io/gorm"

	"github.com/visionsuite/backend/models"
)

type Database struct {
	userRepo           *UserRepo
	projectRepo        *ProjectRepo
	imageRepo          *ImageRepo
	labelRepo          *LabelRepo
	trainingConfigRepo *TrainingConfigRepo
	iterationRepo      *IterationRepo
	deploymentRepo     *DeploymentRepo
}

// New initializes a new Database struct with each repository using a shared GORM database instance
func New(db *gorm.DB) Database {
	return Database{
		userRepo:           NewUserRepo(db),
		projectRepo:        NewProjectRepo(db),
		imageRepo:          NewImageRepo(db),
		labelRepo:          NewLabelRepo(db),
		trainingConfigRepo: NewTrainingConfigRepo(db),
		iterationRepo:      NewIterationRepo(db),
		deploymentRepo:     NewDeploymentRepo(db),
	}
}

// Accessor methods for each repository

func (d Database) UserRepo() *UserRepo {
	return d.userRepo
}

func (d Database) ProjectRepo() *ProjectRepo {
	return d.projectRepo
}

func (d Database) ImageRepo() *ImageRepo {
	return d.imageRepo
}

func (d Database) LabelRepo() *LabelRepo {
	return d.labelRepo
}

func (d Database) TrainingConfigRepo() *TrainingConfigRepo {
	return d.trainingConfigRepo
}

func (d Database) IterationRepo() *IterationRepo {
	return d.iterationRepo
}

func (d Database) DeploymentRepo() *DeploymentRepo {
	return d.deploymentRepo
}

// Migrate creates or updates the schema for every entity the core owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.Image{},
		&models.Label{},
		&models.TrainingConfig{},
		&models.Iteration{},
		&models.Deployment{},
	)
}
