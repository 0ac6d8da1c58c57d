// Package ingest watches a hot folder and submits a job for every new image
// file that appears in it. It also offers a one-shot batch mode over an
// existing directory.
package ingest
