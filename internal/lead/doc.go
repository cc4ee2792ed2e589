// Package lead holds the domain records that flow through the trigger-event
// pipeline: fetched articles, classified events, and their persisted form.
package lead
