// Package domain contains the core entities of the task processing engine:
// jobs and their lifecycle, templates and the parameters they resolve to,
// and the staged source images jobs refer to. It has no dependency on
// storage, transport or providers.
package domain
