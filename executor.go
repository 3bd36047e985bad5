package judgewire

import (
	"context"

	"github.com/google/uuid"
)

// Job is a judge request with its sources decrypted.
type Job struct {
	UUID        uuid.UUID
	MainLang    uuid.UUID
	CheckerLang uuid.UUID
	ManagerLang uuid.UUID
	MainCode    []byte
	CheckerCode []byte
	ManagerCode []byte
	Graders     []byte
	MainPath    string
	ObjectPath  string
	TimeLimit   uint64
	MemLimit    uint64
}

// Executor compiles and runs jobs in a sandbox the worker knows nothing about.
// Judge must return promptly once ctx is done.
type Executor interface {
	// Languages lists the language ids the executor can build.
	Languages() []uuid.UUID
	// Judge runs job to completion and returns its final state. Progress is
	// reported through r as it happens.
	Judge(ctx context.Context, job *Job, r Reporter) JudgeState
}

// Reporter streams job progress back to the master that submitted the job.
type Reporter interface {
	// Stage reports a compile stage (DoCompile, CompleteCompile, CompileError).
	Stage(state JudgeState) error
	// TestCase reports the result of one test. stdin and stdout are sealed
	// before they leave the worker.
	TestCase(test uuid.UUID, stdin, stdout []byte, result JudgeState) error
}

// sealJob encrypts the sources of job under key.
func sealJob(key *SessionKey, job *Job) (*JudgeRequestBody, error) {
	body := &JudgeRequestBody{
		UUID:        job.UUID,
		MainLang:    job.MainLang,
		CheckerLang: job.CheckerLang,
		ManagerLang: job.ManagerLang,
		MainPath:    job.MainPath,
		ObjectPath:  job.ObjectPath,
		TimeLimit:   job.TimeLimit,
		MemLimit:    job.MemLimit,
	}

	fields := []struct {
		dst *EncMessage
		src []byte
	}{
		{&body.CheckerCode, job.CheckerCode},
		{&body.MainCode, job.MainCode},
		{&body.ManagerCode, job.ManagerCode},
		{&body.Graders, job.Graders},
	}
	for _, f := range fields {
		m, err := Seal(key, f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = *m
	}
	return body, nil
}

// openJob decrypts the sources of body. Any tag failure rejects the whole job.
func openJob(key *SessionKey, body *JudgeRequestBody) (*Job, error) {
	job := &Job{
		UUID:        body.UUID,
		MainLang:    body.MainLang,
		CheckerLang: body.CheckerLang,
		ManagerLang: body.ManagerLang,
		MainPath:    body.MainPath,
		ObjectPath:  body.ObjectPath,
		TimeLimit:   body.TimeLimit,
		MemLimit:    body.MemLimit,
	}

	fields := []struct {
		dst *[]byte
		src *EncMessage
	}{
		{&job.CheckerCode, &body.CheckerCode},
		{&job.MainCode, &body.MainCode},
		{&job.ManagerCode, &body.ManagerCode},
		{&job.Graders, &body.Graders},
	}
	for _, f := range fields {
		pt, err := f.src.Open(key)
		if err != nil {
			return nil, err
		}
		*f.dst = pt
	}
	return job, nil
}
