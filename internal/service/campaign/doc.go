// Package campaign implements campaign lifecycle management.
//
// The service layer validates new campaigns and applies the user actions
// (start, pause, cancel) as compare-and-set transitions, so a racing
// scheduler or dispatch tick can never be overwritten. It depends on the
// repository interface defined in this package and should never import
// from api/.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
