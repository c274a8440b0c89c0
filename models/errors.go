package models

import "errors"

var (
	ErrAmbiguousGroupReference = errors.New("campaign step must reference exactly one group")
	ErrInvalidStepKind         = errors.New("invalid campaign step kind")
	ErrInvalidScheduleFields   = errors.New("schedule fields do not match send type")
)
