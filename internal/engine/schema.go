package engine

import _ "embed"

//go:embed installations.cue
var installationSchema string

//go:embed instances.cue
var instanceSchema string
