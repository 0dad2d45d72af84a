// Package domain contains the core entities of the conversion service,
// chiefly the Job state machine and the sentinel error taxonomy. It is
// independent of any specific infrastructure or delivery mechanism.
package domain
