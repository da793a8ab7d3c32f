package ui

import (
	"os"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Batch renders one line per concurrent job on stderr.
type Batch struct {
	progress *mpb.Progress
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{progress: mpb.New(mpb.WithWidth(32), mpb.WithOutput(os.Stderr))}
}

// Job is a single line of a Batch.
type Job struct {
	bar *mpb.Bar
}

// Job adds a line named name. Every job must be finished with Done
// before Wait returns.
func (b *Batch) Job(name string) *Job {
	bar := b.progress.AddBar(1,
		mpb.BarFillerOnComplete("✓"),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.Spinner([]string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}, decor.WC{W: 1}),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 12}), " done"),
		),
	)
	return &Job{bar: bar}
}

// Done completes the line, or aborts it when ok is false.
func (j *Job) Done(ok bool) {
	if ok {
		j.bar.Increment()
		return
	}
	j.bar.Abort(false)
}

// Wait blocks until every job has finished rendering.
func (b *Batch) Wait() {
	b.progress.Wait()
}
