package models

import "time"

// ModelType identifies the algorithm family an artifact belongs to.
// Preprocessing and deserialization are selected per family.
type ModelType string

const (
	ModelTypeGBDTA          ModelType = "gbdt_a"
	ModelTypeGBDTB          ModelType = "gbdt_b"
	ModelTypeSequence       ModelType = "sequence"
	ModelTypeEnsembleMember ModelType = "ensemble_member"
)

// IsTreeFamily reports whether the family uses min-max normalization.
func (t ModelType) IsTreeFamily() bool {
	return t == ModelTypeGBDTA || t == ModelTypeGBDTB || t == ModelTypeEnsembleMember
}

// Valid reports whether t is a known model type.
func (t ModelType) Valid() bool {
	switch t {
	case ModelTypeGBDTA, ModelTypeGBDTB, ModelTypeSequence, ModelTypeEnsembleMember:
		return true
	}
	return false
}

// ModelStatus is the lifecycle state of a registered model.
type ModelStatus string

const (
	StatusRegistered ModelStatus = "REGISTERED"
	StatusDeployed   ModelStatus = "DEPLOYED"
	StatusArchived   ModelStatus = "ARCHIVED"
)

// DeployRole distinguishes the serving champion from candidate challengers.
type DeployRole string

const (
	RoleChampion   DeployRole = "CHAMPION"
	RoleChallenger DeployRole = "CHALLENGER"
)

// ModelRecord is the registry's versioned catalog entry for one trained
// model. Status and metric fields may change in place; any behavioral
// change requires registering a new version record.
type ModelRecord struct {
	ModelID           string      `json:"model_id"`
	Name              string      `json:"name" validate:"required"`
	Version           string      `json:"version" validate:"required,semver"`
	ModelType         ModelType   `json:"model_type" validate:"required"`
	Objective         string      `json:"objective" validate:"required"`
	TargetVariable    string      `json:"target_variable"`
	PredictionHorizon string      `json:"prediction_horizon" validate:"required"`
	ValidationScore   float64     `json:"validation_score" validate:"gte=0,lte=1"`
	TestScore         float64     `json:"test_score" validate:"gte=0,lte=1"`
	Status            ModelStatus `json:"status"`
	Role              DeployRole  `json:"role,omitempty"`
	TrafficFraction   float64     `json:"traffic_fraction,omitempty" validate:"gte=0,lte=1"`
	ArtifactPath      string      `json:"artifact_path" validate:"required"`
	Checksum          string      `json:"checksum" validate:"required"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// DeploymentEvent is one row of the registry's deploy/rollback history.
type DeploymentEvent struct {
	ModelID   string     `json:"model_id"`
	Objective string     `json:"objective"`
	Horizon   string     `json:"horizon"`
	Role      DeployRole `json:"role"`
	Action    string     `json:"action"` // "deploy" | "rollback"
	At        time.Time  `json:"at"`
}
