package quote

// Result is the outcome of one resolver tier for one platform. It is either
// Found or Unavailable; the set of implementations is closed.
type Result interface {
	isResult()
}

// Found carries a quote produced by a tier. Whether it is accepted is
// decided by the waterfall's confidence floor.
type Found struct {
	Quote Quote
}

// Unavailable reports that a tier produced nothing usable.
type Unavailable struct {
	Platform string
	Source   Source
	Reason   error
}

func (Found) isResult()       {}
func (Unavailable) isResult() {}

// NotFound is a convenience constructor for Unavailable results.
func NotFound(platform string, source Source, reason error) Result {
	return Unavailable{Platform: platform, Source: source, Reason: reason}
}
