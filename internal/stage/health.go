package stage

// Health is a point-in-time readiness report for a pipeline stage. Ready
// stages carry no detail; unready ones name the missing prerequisite so
// status output can surface it.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy reports a stage that can process jobs.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy reports a stage that cannot run, with detail explaining why.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
