// Package pipeline owns the topic state machine.
//
// The Flow table describes, per job type, which topic stage a successful job
// reaches and which job comes next. The Orchestrator applies that table after
// every completed job: it advances the topic stage monotonically, fans out
// child jobs, takes conditional detours, waits on await-all barriers, and runs
// terminal side effects such as materializing a publication. It also exposes
// the manual entry points used by the API, the CLI and the content engine:
// TriggerFromSource, TriggerFromTopic, RestartFromStage, ApprovePublication
// and RejectPublication.
//
// Orchestration is at-least-once. A crash between completing a job and
// enqueuing its successor leaves the topic parked; the content engine's
// stranded-topic sweep resumes it using the table derived by ResumeTable.
package pipeline
