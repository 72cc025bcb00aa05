package pipeline

import "github.com/phoreus/rpmforge/internal/classify"

// One ordered phase of a package's build pipeline.
type Stage string

const (
	StageEnvironment             Stage = "Environment"
	StageIngestion               Stage = "Ingestion"
	StageDependencyNormalization Stage = "DependencyNormalization"
	StageSpecGeneration          Stage = "SpecGeneration"
	StageSourceNormalization     Stage = "SourceNormalization"
	StageBuild                   Stage = "Build"
	StagePostBuildValidation     Stage = "PostBuildValidation"
)

// The fixed stage order. Execution is always a strict prefix of this
// sequence; no stage appears twice within one attempt.
var Stages = []Stage{
	StageEnvironment,
	StageIngestion,
	StageDependencyNormalization,
	StageSpecGeneration,
	StageSourceNormalization,
	StageBuild,
	StagePostBuildValidation,
}

// Fixed stage-to-domain mapping. Failures in pre-build stages are
// infrastructure defects and never count toward build-quality statistics.
var stageDomains = map[Stage]classify.Domain{
	StageEnvironment:             classify.DomainInfrastructure,
	StageIngestion:               classify.DomainInfrastructure,
	StageDependencyNormalization: classify.DomainInfrastructure,
	StageSpecGeneration:          classify.DomainInfrastructure,
	StageSourceNormalization:     classify.DomainInfrastructure,
	StageBuild:                   classify.DomainBuild,
	StagePostBuildValidation:     classify.DomainBuild,
}

// Returns the failure domain of the stage.
func (s Stage) Domain() classify.Domain {
	return stageDomains[s]
}
