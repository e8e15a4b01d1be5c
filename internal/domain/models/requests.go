package models

// Request DTOs bound from HTTP. Defaults are applied before validation.

type PredictRequest struct {
	Symbol  string `query:"symbol" json:"symbol" validate:"required,max=16"`
	Horizon string `query:"horizon" json:"horizon" default:"1w" validate:"oneof=1d 1w 1m"`
}

type BatchPredictRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=100,dive,required,max=16"`
	Horizon string   `json:"horizon" default:"1w" validate:"oneof=1d 1w 1m"`
}

type EnsembleRequest struct {
	Symbol   string   `query:"symbol" json:"symbol" validate:"required,max=16"`
	Horizon  string   `query:"horizon" json:"horizon" default:"1w" validate:"oneof=1d 1w 1m"`
	ModelIDs []string `query:"model_ids" json:"model_ids" validate:"omitempty,max=10,dive,required"`
}

type RegisterModelRequest struct {
	Name            string  `json:"name" validate:"required"`
	Version         string  `json:"version" validate:"required,semver"`
	ModelType       string  `json:"model_type" validate:"required"`
	Objective       string  `json:"objective" validate:"required"`
	TargetVariable  string  `json:"target_variable"`
	Horizon         string  `json:"horizon" default:"1w" validate:"oneof=1d 1w 1m"`
	ValidationScore float64 `json:"validation_score" validate:"gte=0,lte=1"`
	TestScore       float64 `json:"test_score" validate:"gte=0,lte=1"`
	ArtifactPath    string  `json:"artifact_path" validate:"required"`
	Checksum        string  `json:"checksum" validate:"required,len=64,hexadecimal"`
}

type DeployRequest struct {
	Role            string  `json:"role" default:"CHAMPION" validate:"oneof=CHAMPION CHALLENGER"`
	TrafficFraction float64 `json:"traffic_fraction" validate:"gte=0,lte=1"`
}

type RollbackRequest struct {
	Objective string `json:"objective" validate:"required"`
	Horizon   string `json:"horizon" default:"1w" validate:"oneof=1d 1w 1m"`
}
