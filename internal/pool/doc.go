// Package pool keeps one live adapter per runtime identity.
//
// The pool bounds how many adapters exist, evicts idle ones, checks them
// periodically and reconnects those that keep failing. It is constructed
// by the caller and never shared implicitly.
package pool
