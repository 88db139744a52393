package session

import (
	"encoding/json"
	"time"

	"github.com/kandev/agent-orchestrator/internal/apperrors"
	"github.com/kandev/agent-orchestrator/internal/metadata"
	"github.com/kandev/agent-orchestrator/internal/plugin"
)

// Known metadata keys (spec §6). Any other key present in the record is
// preserved round-trip but not interpreted.
const (
	keyWorktree      = "worktree"
	keyBranch        = "branch"
	keyStatus        = "status"
	keyIssue         = "issue"
	keyPR            = "pr"
	keyPRData        = "prData"
	keySummary       = "summary"
	keyProject       = "project"
	keyCreatedAt     = "createdAt"
	keyRuntimeHandle = "runtimeHandle"
	keyActivity      = "activity"
	keyLastActivity  = "lastActivityAt"
	keyAgentInfo     = "agentInfo"
)

// toRecord serializes a Session into its canonical metadata.Record form,
// preserving any unknown keys already present in base (if non-nil), since
// the metadata file is the durable truth and in-memory Session values must
// round-trip through it without losing forward-compatible keys (spec §3/§4.4).
func toRecord(s *Session, base *metadata.Record) (*metadata.Record, error) {
	rec := base
	if rec == nil {
		rec = metadata.NewRecord()
	}

	rec.Set(keyWorktree, s.WorkspacePath)
	rec.Set(keyBranch, s.Branch)
	rec.Set(keyStatus, string(s.Status))
	rec.Set(keyIssue, s.IssueID)
	rec.Set(keyProject, s.ProjectID)
	rec.Set(keyCreatedAt, s.CreatedAt.UTC().Format(time.RFC3339Nano))
	rec.Set(keyActivity, string(s.Activity))
	if !s.LastActivityAt.IsZero() {
		rec.Set(keyLastActivity, s.LastActivityAt.UTC().Format(time.RFC3339Nano))
	}

	handleJSON, err := json.Marshal(s.RuntimeHandle)
	if err != nil {
		return nil, apperrors.WrapMetadata("encode runtimeHandle", err)
	}
	rec.Set(keyRuntimeHandle, string(handleJSON))

	if s.PR != nil {
		rec.Set(keyPR, s.PR.URL)
		prJSON, err := json.Marshal(s.PR)
		if err != nil {
			return nil, apperrors.WrapMetadata("encode pr", err)
		}
		rec.Set(keyPRData, string(prJSON))
	} else {
		rec.Delete(keyPR)
		rec.Delete(keyPRData)
	}

	if s.AgentInfo != nil {
		infoJSON, err := json.Marshal(s.AgentInfo)
		if err != nil {
			return nil, apperrors.WrapMetadata("encode agentInfo", err)
		}
		rec.Set(keyAgentInfo, string(infoJSON))
	} else {
		rec.Delete(keyAgentInfo)
	}

	for k, v := range s.Metadata {
		rec.Set(k, v)
	}

	return rec, nil
}

// fromRecord reconstitutes a Session from a metadata.Record. id is supplied
// separately since the metadata file itself does not repeat its own id.
func fromRecord(id string, rec *metadata.Record) (*Session, error) {
	s := &Session{ID: id, Metadata: make(map[string]string)}

	if v, ok := rec.Get(keyWorktree); ok {
		s.WorkspacePath = v
	}
	if v, ok := rec.Get(keyBranch); ok {
		s.Branch = v
	}
	if v, ok := rec.Get(keyStatus); ok {
		s.Status = Status(v)
	}
	if v, ok := rec.Get(keyIssue); ok {
		s.IssueID = v
	}
	if v, ok := rec.Get(keyProject); ok {
		s.ProjectID = v
	}
	if v, ok := rec.Get(keyActivity); ok {
		s.Activity = Activity(v)
	}
	if v, ok := rec.Get(keyCreatedAt); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.CreatedAt = t
		}
	}
	if v, ok := rec.Get(keyLastActivity); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.LastActivityAt = t
		}
	}
	if v, ok := rec.Get(keyRuntimeHandle); ok && v != "" {
		var handle plugin.RuntimeHandle
		if err := json.Unmarshal([]byte(v), &handle); err != nil {
			return nil, apperrors.WrapMetadata("decode runtimeHandle", err)
		}
		s.RuntimeHandle = handle
	}
	if v, ok := rec.Get(keyPRData); ok && v != "" {
		var pr plugin.PRInfo
		if err := json.Unmarshal([]byte(v), &pr); err != nil {
			return nil, apperrors.WrapMetadata("decode pr", err)
		}
		s.PR = &pr
	}
	if v, ok := rec.Get(keyAgentInfo); ok && v != "" {
		var info plugin.AgentSessionInfo
		if err := json.Unmarshal([]byte(v), &info); err != nil {
			return nil, apperrors.WrapMetadata("decode agentInfo", err)
		}
		s.AgentInfo = &info
	}

	known := map[string]bool{
		keyWorktree: true, keyBranch: true, keyStatus: true, keyIssue: true,
		keyPR: true, keyPRData: true, keySummary: true, keyProject: true,
		keyCreatedAt: true, keyRuntimeHandle: true, keyActivity: true,
		keyLastActivity: true, keyAgentInfo: true,
	}
	for _, k := range rec.Keys() {
		if known[k] {
			continue
		}
		v, _ := rec.Get(k)
		s.Metadata[k] = v
	}

	return s, nil
}
