package usecase

// Recorder receives counters from the engine. The Prometheus implementation
// lives in infrastructure/metrics.
type Recorder interface {
	IncTPScan(result string)
	IncPositionClosed(exchange string)
	IncCloseFailure(exchange, kind string)
	IncReentry(exchange, result string)
	IncGateDenial(check string)
	IncProtectionFailure(order string)
	IncExchangeError(kind string)
	IncSchedulerSkipped(job string)
	SetPendingRecords(n int)
}

type nopRecorder struct{}

func (nopRecorder) IncTPScan(string)               {}
func (nopRecorder) IncPositionClosed(string)       {}
func (nopRecorder) IncCloseFailure(string, string) {}
func (nopRecorder) IncReentry(string, string)      {}
func (nopRecorder) IncGateDenial(string)           {}
func (nopRecorder) IncProtectionFailure(string)    {}
func (nopRecorder) IncExchangeError(string)        {}
func (nopRecorder) IncSchedulerSkipped(string)     {}
func (nopRecorder) SetPendingRecords(int)          {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
