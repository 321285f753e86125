package models

// Unit is the measurement unit of a metric kind.
type Unit string

const (
	UnitPercent Unit = "percent"
	UnitBytes   Unit = "bytes"
)

// CounterType says how consecutive values of a kind relate.
//   - Gauge values are independent point-in-time readings.
//   - Cumulative values are monotonically increasing counters since boot;
//     consumers compute rates from deltas and must treat a decrease as a
//     counter reset (reboot or device re-attach).
type CounterType string

const (
	Gauge      CounterType = "gauge"
	Cumulative CounterType = "cumulative"
)

// KindInfo documents a kind's numeric semantics.
type KindInfo struct {
	Unit      Unit        `json:"unit"`
	Counter   CounterType `json:"counter"`
	PerSource bool        `json:"per_source"`
}

var kindInfo = map[MetricKind]KindInfo{
	MetricCPULoad:        {Unit: UnitPercent, Counter: Gauge},
	MetricMemUsed:        {Unit: UnitBytes, Counter: Gauge},
	MetricMemTotal:       {Unit: UnitBytes, Counter: Gauge},
	MetricDiskUsed:       {Unit: UnitBytes, Counter: Gauge, PerSource: true},
	MetricDiskTotal:      {Unit: UnitBytes, Counter: Gauge, PerSource: true},
	MetricDiskReadBytes:  {Unit: UnitBytes, Counter: Cumulative, PerSource: true},
	MetricDiskWriteBytes: {Unit: UnitBytes, Counter: Cumulative, PerSource: true},
	MetricNetRxBytes:     {Unit: UnitBytes, Counter: Cumulative, PerSource: true},
	MetricNetTxBytes:     {Unit: UnitBytes, Counter: Cumulative, PerSource: true},
}

// Info returns the numeric semantics of k. Unknown kinds report a zero
// KindInfo.
func (k MetricKind) Info() KindInfo {
	return kindInfo[k]
}
