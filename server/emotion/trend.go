package emotion

// RecentWindow is the number of newest records averaged as "recent".
const RecentWindow = 5

// Direction describes how recent stress compares to the all-time average.
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionStable     Direction = "stable"
)

// Trend summarizes stress levels recorded in the journal.
type Trend struct {
	Records   int       `json:"records"`
	Average   float64   `json:"average_stress"`
	Recent    float64   `json:"recent_stress"`
	Window    int       `json:"recent_window"`
	Direction Direction `json:"direction,omitempty"`
}

// Empty reports whether the trend was computed over no records.
func (t Trend) Empty() bool {
	return t.Records == 0
}

// ComputeTrend averages stress over all records and over the last five.
func ComputeTrend(records []Record) Trend {
	if len(records) == 0 {
		return Trend{}
	}

	recent := records
	if len(recent) > RecentWindow {
		recent = recent[len(recent)-RecentWindow:]
	}

	t := Trend{
		Records: len(records),
		Average: meanStress(records),
		Recent:  meanStress(recent),
		Window:  len(recent),
	}

	switch {
	case t.Recent > t.Average:
		t.Direction = DirectionIncreasing
	case t.Recent < t.Average:
		t.Direction = DirectionDecreasing
	default:
		t.Direction = DirectionStable
	}
	return t
}

func meanStress(records []Record) float64 {
	var sum int
	for _, r := range records {
		sum += r.StressLevel
	}
	return float64(sum) / float64(len(records))
}

// AnalyzeStressTrend reads the whole journal and computes its trend.
func (j *Journal) AnalyzeStressTrend() (Trend, error) {
	records, err := j.Records()
	if err != nil {
		return Trend{}, err
	}
	return ComputeTrend(records), nil
}
