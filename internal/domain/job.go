package domain

import "time"

// JobStage is the transcription stage of a job.
type JobStage string

const (
	StagePending    JobStage = "pending"
	StageProcessing JobStage = "processing"
	StageCompleted  JobStage = "completed"
	StageFailed     JobStage = "failed"
)

// Terminal reports whether no further stage transition can occur.
func (s JobStage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// SummaryStage tracks summarization progress. It is independent of JobStage
// but only meaningful once the transcription stage is completed.
type SummaryStage string

const (
	SummaryNone      SummaryStage = "none"
	SummaryPending   SummaryStage = "pending"
	SummaryCompleted SummaryStage = "completed"
	SummaryFailed    SummaryStage = "failed"
)

func (s SummaryStage) Terminal() bool {
	return s == SummaryCompleted || s == SummaryFailed
}

// Utterance is one attributed span of the transcript.
type Utterance struct {
	Speaker string        `json:"speaker,omitempty"`
	Text    string        `json:"text"`
	Start   time.Duration `json:"start,omitempty"`
	End     time.Duration `json:"end,omitempty"`
}

// Job is the in-memory record of one transcription/summarization job.
// Each job has exactly one writer: the registry entry that owns it.
type Job struct {
	ID           string
	Stage        JobStage
	Result       []Utterance
	ErrorMessage string
	MediaRef     string
	Diarized     bool

	SummaryStage SummaryStage
	SummaryText  string
	SummaryError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot is the complete, self-consistent state pushed to subscribers
// after every transition. Fields are only populated in the stages where
// they are meaningful.
type Snapshot struct {
	JobID        string       `json:"jobId"`
	Stage        JobStage     `json:"stage"`
	Result       []Utterance  `json:"result,omitempty"`
	Error        string       `json:"error,omitempty"`
	MediaRef     string       `json:"mediaRef,omitempty"`
	SummaryStage SummaryStage `json:"summaryStage,omitempty"`
	SummaryText  string       `json:"summaryText,omitempty"`
	SummaryError string       `json:"summaryError,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Terminal reports whether the stream carrying this snapshot has nothing
// further to deliver: a failed transcription, or a completed one whose
// summarization already reached a terminal state.
func (s Snapshot) Terminal() bool {
	if s.Stage == StageFailed {
		return true
	}
	return s.Stage == StageCompleted && s.SummaryStage.Terminal()
}

// Snapshot renders the job as an immutable view handed to subscribers.
func (j *Job) Snapshot() Snapshot {
	var result []Utterance
	if len(j.Result) > 0 {
		result = make([]Utterance, len(j.Result))
		copy(result, j.Result)
	}
	return Snapshot{
		JobID:        j.ID,
		Stage:        j.Stage,
		Result:       result,
		Error:        j.ErrorMessage,
		MediaRef:     j.MediaRef,
		SummaryStage: j.SummaryStage,
		SummaryText:  j.SummaryText,
		SummaryError: j.SummaryError,
		UpdatedAt:    j.UpdatedAt,
	}
}

// SubmissionMessage is the transport format sent to queue backends when a
// transcription job is dispatched to a worker.
type SubmissionMessage struct {
	JobID       string    `json:"job_id"`
	MediaRef    string    `json:"media_ref"`
	Diarize     bool      `json:"diarize"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}
