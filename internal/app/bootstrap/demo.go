package bootstrap

import (
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// SeedDemoUsers fills an in-memory store with fake doctors and patients.
func SeedDemoUsers(store *scheduling.MemoryStore, doctors, patients int) (docs, pats []scheduling.User) {
	for i := 0; i < doctors; i++ {
		u := scheduling.User{ID: uuid.New(), Name: "Dr. " + gofakeit.LastName(), Email: gofakeit.Email(), Role: scheduling.RoleDoctor}
		store.PutUser(u)
		docs = append(docs, u)
	}
	for i := 0; i < patients; i++ {
		u := scheduling.User{ID: uuid.New(), Name: gofakeit.Name(), Email: gofakeit.Email(), Role: scheduling.RolePatient}
		store.PutUser(u)
		pats = append(pats, u)
	}
	return docs, pats
}
