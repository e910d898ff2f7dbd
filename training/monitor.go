package training

import (
	"fmt"
	"strings"
)

// printEpochSummary writes the four-line train/test table shown every
// MonitorWindow epochs in verbose mode.
func (t *Trainer) printEpochSummary(rec EpochRecord, total int) {
	tr, te := rec.Train, rec.Valid
	fmt.Fprintln(t.out, strings.Repeat("-", 100))
	fmt.Fprintf(t.out, "[%2d|%2d] \t train loss:\t\t%.3f \t\t train overall acc:\t%.3f%%\n",
		rec.Epoch, total, tr.Loss, tr.OverallAcc*100)
	fmt.Fprintf(t.out, "\t\t train clean acc:\t%.3f%% \t train troj acc:\t%.3f%%\n",
		tr.CleanAcc*100, tr.TrojAcc*100)
	fmt.Fprintf(t.out, "\t\t test loss:\t\t%.3f \t\t test overall acc:\t%.3f%%\n",
		te.Loss, te.OverallAcc*100)
	fmt.Fprintf(t.out, "\t\t test clean acc:\t%.3f%% \t test troj acc:\t\t%.3f%%\n",
		te.CleanAcc*100, te.TrojAcc*100)
}
