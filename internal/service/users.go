package service

import (
	"sort"

	"green-reward/internal/models"
)

type Directory interface {
	Lookup(username string) (models.User, bool)
	Residents() []models.User
}

type staticDirectory struct {
	users map[string]models.User
}

func NewDirectory(users ...models.User) Directory {
	d := &staticDirectory{users: make(map[string]models.User, len(users))}
	for _, u := range users {
		d.users[u.Username] = u
	}
	return d
}

func DefaultUsers() []models.User {
	return []models.User{
		{Username: "Ravi", Role: models.RoleResident},
		{Username: "Suresh", Role: models.RoleCollector},
	}
}

func (d *staticDirectory) Lookup(username string) (models.User, bool) {
	u, ok := d.users[username]
	return u, ok
}

func (d *staticDirectory) Residents() []models.User {
	var out []models.User
	for _, u := range d.users {
		if u.Role == models.RoleResident {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
