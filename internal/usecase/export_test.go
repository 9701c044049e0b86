package usecase

import "time"

var FloorQuantity = floorQuantity

func (e *TPEvaluator) SetClock(now func() time.Time)     { e.timeNow = now }
func (e *ReentryExecutor) SetClock(now func() time.Time) { e.timeNow = now }
func (s *Scanner) SetClock(now func() time.Time)         { s.timeNow = now }
