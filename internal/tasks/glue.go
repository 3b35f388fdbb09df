package tasks

import "metabert/pkg/types"

var glue = map[string]types.TaskSpec{
	"cola":    {ID: "cola", Name: "CoLA", Mode: types.Classification},
	"mnli":    {ID: "mnli", Name: "MNLI", Mode: types.Classification},
	"mnli-mm": {ID: "mnli-mm", Name: "MNLI-MM", Mode: types.Classification},
	"mrpc":    {ID: "mrpc", Name: "MRPC", Mode: types.Classification},
	"sst-2":   {ID: "sst-2", Name: "SST-2", Mode: types.Classification},
	"sts-b":   {ID: "sts-b", Name: "STS-B", Mode: types.Regression},
	"qqp":     {ID: "qqp", Name: "QQP", Mode: types.Classification},
	"qnli":    {ID: "qnli", Name: "QNLI", Mode: types.Classification},
	"rte":     {ID: "rte", Name: "RTE", Mode: types.Classification},
	"wnli":    {ID: "wnli", Name: "WNLI", Mode: types.Classification},
}

// GLUE returns the built-in spec of a GLUE task.
func GLUE(id string) (types.TaskSpec, bool) {
	s, ok := glue[id]
	return s, ok
}
