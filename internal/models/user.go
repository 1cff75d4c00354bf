package models

import "time"

// User is the minimal account record the job core needs: identity plus the
// capability flags used by the authorization predicates. Registration,
// password storage and profile management live outside this service.
type User struct {
	ID        string    `json:"id" badgerhold:"key"`
	Name      string    `json:"name"`
	Admin     bool      `json:"admin"`
	Superuser bool      `json:"superuser"`
	APIKey    string    `json:"api_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CanReadJob reports whether the user may view job j.
func (u *User) CanReadJob(j *Job) bool {
	return u.ID == j.OwnerID || u.Admin
}

// CanCancelJob reports whether the user may cancel job j. Same predicate as
// read access.
func (u *User) CanCancelJob(j *Job) bool {
	return u.CanReadJob(j)
}

// ServiceAccountID is the principal webhook-created jobs are attributed to.
const ServiceAccountID = "service-webhook"
