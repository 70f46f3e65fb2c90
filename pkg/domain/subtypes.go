package domain

import "slices"

// Prediction column names produced when classifier output is joined onto metadata.
const (
	Subtype5Column        = "subtype_5_class"
	Subtype7Column        = "subtype_7_class"
	ProgressionRiskColumn = "progression_risk"
	GradeWHO1999Column    = "molecular_grade_who_1999"
	GradeWHO2022Column    = "molecular_grade_who_2022"
	// ScoreColumnPrefix prefixes per-class score columns, e.g. score_Uro.
	ScoreColumnPrefix = "score_"
	// SignatureColumnPrefix prefixes continuous signature columns.
	SignatureColumnPrefix = "signature_"
)

var (
	subtype5Levels     = []string{"Uro", "GU", "BaSq", "Mes", "ScNE"}
	subtype7Levels     = []string{"UroA", "UroB", "UroC", "GU", "BaSq", "Mes", "ScNE"}
	progressionLevels  = []string{"LR", "HR"}
	gradeWHO1999Levels = []string{"G1_2", "G3"}
	gradeWHO2022Levels = []string{"LG", "HG"}
)

// Subtype5Levels returns the 5-class level order.
func Subtype5Levels() []string { return slices.Clone(subtype5Levels) }

// Subtype7Levels returns the 7-class level order.
func Subtype7Levels() []string { return slices.Clone(subtype7Levels) }

// ProgressionLevels returns the progression risk level order.
func ProgressionLevels() []string { return slices.Clone(progressionLevels) }

// GradeWHO1999Levels returns the ordered WHO 1999 molecular grade levels.
func GradeWHO1999Levels() []string { return slices.Clone(gradeWHO1999Levels) }

// GradeWHO2022Levels returns the ordered WHO 2022 molecular grade levels.
func GradeWHO2022Levels() []string { return slices.Clone(gradeWHO2022Levels) }

// ScoreClassOrder returns the preferred order of per-class score columns: the
// 5-class subtypes followed by the Uro subclasses.
func ScoreClassOrder() []string {
	return []string{"Uro", "UroA", "UroB", "UroC", "GU", "BaSq", "Mes", "ScNE"}
}
