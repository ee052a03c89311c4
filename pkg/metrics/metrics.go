package metrics

/*
Labels and so on for metrics used in configci.
*/

const (
	LabelMethod  = "method"
	LabelRoute   = "route"
	LabelSuccess = "success"
	LabelStep    = "step"
	LabelState   = "state"
)
