package judgewire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/tai64n"
)

func TestJudgeRequestBodyRoundTrip(t *testing.T) {
	key := testKey(t)
	job := &Job{
		UUID:        uuid.New(),
		MainLang:    uuid.New(),
		CheckerLang: uuid.New(),
		ManagerLang: uuid.New(),
		MainCode:    []byte("print(input())"),
		CheckerCode: []byte("checker"),
		ManagerCode: []byte("manager"),
		Graders:     []byte("graders.zip"),
		MainPath:    "main.py",
		ObjectPath:  "main",
		TimeLimit:   1000,
		MemLimit:    262144,
	}

	body, err := sealJob(key, job)
	require.NoError(t, err)

	var decoded JudgeRequestBody
	require.NoError(t, Unmarshal(Marshal(body), &decoded))
	assert.Equal(t, *body, decoded)

	opened, err := openJob(key, &decoded)
	require.NoError(t, err)
	if diff := cmp.Diff(job, opened); diff != "" {
		t.Errorf("job mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenJobRejectsTamperedField(t *testing.T) {
	key := testKey(t)
	body, err := sealJob(key, &Job{UUID: uuid.New(), MainCode: []byte("x")})
	require.NoError(t, err)

	body.Graders.Ciphertext[0] ^= 1
	_, err = openJob(key, body)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestTestCaseUpdateBodyRoundTrip(t *testing.T) {
	key := testKey(t)
	body := &TestCaseUpdateBody{
		UUID:     uuid.New(),
		TestUUID: uuid.New(),
		Stdin:    *mustSeal(t, key, []byte("1 2")),
		Stdout:   *mustSeal(t, key, []byte("3")),
		Result:   WrongAnswer{Test: uuid.New(), TimeMs: 5, MemKB: 6},
	}

	var got TestCaseUpdateBody
	require.NoError(t, Unmarshal(Marshal(body), &got))
	if diff := cmp.Diff(*body, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLoginStatusRoundTrip(t *testing.T) {
	status := &LoginStatus{
		NodeID:      uuid.New(),
		Established: tai64n.Now(),
		Locked:      true,
		ActiveJobs:  3,
		Languages:   []uuid.UUID{uuid.New(), uuid.New()},
	}

	var got LoginStatus
	require.NoError(t, Unmarshal(Marshal(status), &got))
	assert.Equal(t, *status, got)
}

func TestLoginStatusLanguageCountBounded(t *testing.T) {
	e := NewEncoder(0)
	e.PutUUID(uuid.New())
	e.PutFixed(make([]byte, tai64n.TimestampSize))
	e.PutBool(false)
	e.PutUint32(0)
	e.PutUint64(1 << 40)

	require.Error(t, Unmarshal(e.Bytes(), &LoginStatus{}))
}

func TestTokenMessagesRoundTrip(t *testing.T) {
	key := testKey(t)
	tb := &TokenBody{Token: *mustSeal(t, key, []byte("tok"))}
	var gotTB TokenBody
	require.NoError(t, Unmarshal(Marshal(tb), &gotTB))
	assert.Equal(t, *tb, gotTB)

	tr := &TokenResult{Valid: true, Expires: 1700000000}
	var gotTR TokenResult
	require.NoError(t, Unmarshal(Marshal(tr), &gotTR))
	assert.Equal(t, *tr, gotTR)
}

func TestProtocolErrorBody(t *testing.T) {
	pe := &ProtocolErrorBody{Kind: KindAuthFailure, Command: CmdReqJudge, Job: uuid.New(), Message: "authentication failure"}

	var got ProtocolErrorBody
	require.NoError(t, Unmarshal(Marshal(pe), &got))
	assert.Equal(t, *pe, got)
	assert.ErrorIs(t, got.Err(), ErrAuthFailure)
}
