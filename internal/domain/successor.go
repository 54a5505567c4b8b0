package domain

// Successor describes where a stage's output goes next (spec §3). It is a
// closed sum type — Sink, Point, or Group — implemented as an interface
// with an unexported marker method so no package outside domain can add a
// fourth variant (spec §9: "model as a small closed variant set").
type Successor interface {
	isSuccessor()
}

// SinkKind names a terminal sink (spec §4.6).
type SinkKind string

const (
	SinkStdout     SinkKind = "stdout"
	SinkBlackhole  SinkKind = "blackhole"
	SinkCollector  SinkKind = "collector" // in-process, used by the source coordinator (C8) to receive the terminal response
)

// SinkSuccessor terminates the pipeline at sink Kind.
type SinkSuccessor struct {
	Kind SinkKind
}

func (SinkSuccessor) isSuccessor() {}

// PointSuccessor forwards the whole output to a single named stage.
type PointSuccessor struct {
	Name string
}

func (PointSuccessor) isSuccessor() {}

// GroupSuccessor forwards output to one member of a function group of
// size Size backing an aggregator stage, named "<Prefix>-00".."<Prefix>-
// (Size-1)" (spec §3 "Function group").
type GroupSuccessor struct {
	Prefix string
	Size   int
}

func (GroupSuccessor) isSuccessor() {}
