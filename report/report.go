package report

import "fmt"

// Kind names the command that produced a report.
type Kind string

const (
	// KindInit reports a snapshot replacement.
	KindInit Kind = "init"
	// KindCheck reports a comparison with the snapshot.
	KindCheck Kind = "check"
	// KindUpdate reports a single upserted entry.
	KindUpdate Kind = "update"
)

// Status classifies one file.
type Status string

const (
	// Unknown means no digest is stored for the path.
	Unknown Status = "unknown"
	// Unmodified means the current digest equals the
	// stored one.
	Unmodified Status = "unmodified"
	// Modified means the digests differ.
	Modified Status = "modified"
	// Missing means a stored path no longer exists.
	Missing Status = "missing"
	// Error means the file could not be read.
	Error Status = "error"
	// Stored means a digest was recorded by init or
	// update.
	Stored Status = "stored"
)

// Result is the outcome for one path.
type Result struct {
	Path   string `json:"path"`
	Status Status `json:"status"`
	// Digest is the freshly computed digest, if any.
	Digest string `json:"digest,omitempty"`
	// Stored is the digest found in the snapshot, if any.
	Stored string `json:"stored,omitempty"`
	Err    error  `json:"-"`
}

// Reason returns the error text for Error results.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}

	return r.Err.Error()
}

// Report groups the results of one command.
type Report struct {
	Kind    Kind     `json:"kind"`
	Root    string   `json:"root"`
	IsDir   bool     `json:"is_dir"`
	Results []Result `json:"results"`
}

// Add appends a result.
func (r *Report) Add(res Result) {
	r.Results = append(r.Results, res)
}

// Counts tallies results per status.
func (r *Report) Counts() map[Status]int {
	out := make(map[Status]int)

	for _, res := range r.Results {
		out[res.Status]++
	}

	return out
}

// Failed reports whether any file could not be read.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status == Error {
			return true
		}
	}

	return false
}

// Changed reports whether a check found anything other
// than unmodified files.
func (r *Report) Changed() bool {
	for _, res := range r.Results {
		switch res.Status {
		case Modified, Unknown, Missing:
			return true
		case Unmodified, Error, Stored:
			continue
		}
	}

	return false
}

// String summarizes the counts for logging.
func (r *Report) String() string {
	c := r.Counts()

	return fmt.Sprintf(
		"%s %s: %d unmodified, %d modified, %d unknown, "+
			"%d missing, %d stored, %d errors",
		r.Kind, r.Root,
		c[Unmodified], c[Modified], c[Unknown],
		c[Missing], c[Stored], c[Error],
	)
}
