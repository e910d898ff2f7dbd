package training

// EmptyValue is what an AverageMeter reports before it has seen any weight.
// Use Empty to tell it apart from a genuine zero mean.
const EmptyValue = 0.0

// AverageMeter keeps a running weighted mean of a scalar.
type AverageMeter struct {
	Name  string
	sum   float64
	count float64
}

func NewAverageMeter(name string) *AverageMeter {
	return &AverageMeter{Name: name}
}

// Update folds value observed with the given weight into the mean.
// Non-positive weights are ignored.
func (m *AverageMeter) Update(value float64, weight int) {
	if weight <= 0 {
		return
	}
	m.sum += value * float64(weight)
	m.count += float64(weight)
}

func (m *AverageMeter) Reset() {
	m.sum = 0
	m.count = 0
}

// Value returns sum/count, or EmptyValue when nothing has been recorded.
func (m *AverageMeter) Value() float64 {
	if m.count == 0 {
		return EmptyValue
	}
	return m.sum / m.count
}

func (m *AverageMeter) Count() int {
	return int(m.count)
}

func (m *AverageMeter) Empty() bool {
	return m.count == 0
}

// Meters groups the four accumulators reported per pass.
type Meters struct {
	Loss       *AverageMeter
	CleanAcc   *AverageMeter
	TrojAcc    *AverageMeter
	OverallAcc *AverageMeter
}

func NewMeters() *Meters {
	return &Meters{
		Loss:       NewAverageMeter("ce_loss"),
		CleanAcc:   NewAverageMeter("clean_acc"),
		TrojAcc:    NewAverageMeter("troj_acc"),
		OverallAcc: NewAverageMeter("overall_acc"),
	}
}

func (m *Meters) Reset() {
	m.Loss.Reset()
	m.CleanAcc.Reset()
	m.TrojAcc.Reset()
	m.OverallAcc.Reset()
}

// Snapshot is a frozen copy of a Meters group.
type Snapshot struct {
	Loss       float64 `json:"loss"`
	OverallAcc float64 `json:"overall_acc"`
	CleanAcc   float64 `json:"clean_acc"`
	TrojAcc    float64 `json:"troj_acc"`
	CleanEmpty bool    `json:"clean_empty,omitempty"`
	TrojEmpty  bool    `json:"troj_empty,omitempty"`
}

func (m *Meters) Snapshot() Snapshot {
	return Snapshot{
		Loss:       m.Loss.Value(),
		OverallAcc: m.OverallAcc.Value(),
		CleanAcc:   m.CleanAcc.Value(),
		TrojAcc:    m.TrojAcc.Value(),
		CleanEmpty: m.CleanAcc.Empty(),
		TrojEmpty:  m.TrojAcc.Empty(),
	}
}

// Map returns the snapshot keyed the way result files name the metrics.
func (s Snapshot) Map() map[string]float64 {
	return map[string]float64{
		"ce_loss":     s.Loss,
		"clean_acc":   s.CleanAcc,
		"troj_acc":    s.TrojAcc,
		"overall_acc": s.OverallAcc,
	}
}

// record folds one processed batch into the meters. loss is the batch mean,
// preds the top-1 predictions aligned with the batch rows.
func (m *Meters) record(loss float64, preds, original, target []int) {
	clean, troj := Partition(original, target)
	n := len(target)

	m.Loss.Update(loss, n)
	m.CleanAcc.Update(accuracy(preds, original, clean), len(clean))
	m.TrojAcc.Update(accuracy(preds, target, troj), len(troj))
	m.OverallAcc.Update(accuracy(preds, target, nil), n)
}

// accuracy is the fraction of rows in idx (all rows when idx is nil) whose
// prediction matches labels.
func accuracy(preds, labels, idx []int) float64 {
	if idx == nil {
		if len(labels) == 0 {
			return 0
		}
		correct := 0
		for i, l := range labels {
			if preds[i] == l {
				correct++
			}
		}
		return float64(correct) / float64(len(labels))
	}
	if len(idx) == 0 {
		return 0
	}
	correct := 0
	for _, i := range idx {
		if preds[i] == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(idx))
}
