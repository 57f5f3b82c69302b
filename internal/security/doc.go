// Package security builds the posture report exposed by Engine.SecurityReport and
// logged by trustguardd at startup.
//
// # What this package must NOT do
//
//   - Read configuration itself; callers pass a ReportInput.
//   - Include key material in a Report.
package security
