package main

import (
	"time"

	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/store/memory"
)

const (
	demoShopID = "3f6b2c1e-8a4d-4e7f-9b2a-1c5d6e7f8a90"
)

// seedDemo loads one shop with two barbers and two services so the memory
// driver is usable without a database.
func seedDemo(st *memory.Store) *memory.Store {
	now := time.Now().UTC()
	st.AddShop(models.Shop{
		ShopID:    demoShopID,
		Slug:      "demo",
		Name:      "Demo Barbershop",
		Timezone:  "UTC",
		Active:    true,
		CreatedAt: now,
	})
	for _, service := range []models.Service{
		{ServiceID: "b1c2d3e4-f5a6-4b7c-8d9e-0f1a2b3c4d01", Name: "Haircut", Code: "CUT", Duration: 30},
		{ServiceID: "b1c2d3e4-f5a6-4b7c-8d9e-0f1a2b3c4d02", Name: "Beard Trim", Code: "BRD", Duration: 15},
	} {
		service.ShopID = demoShopID
		service.Active = true
		st.AddService(service)
	}
	for _, barber := range []models.Barber{
		{BarberID: "c1d2e3f4-a5b6-4c7d-8e9f-0a1b2c3d4e01", Name: "Rudi"},
		{BarberID: "c1d2e3f4-a5b6-4c7d-8e9f-0a1b2c3d4e02", Name: "Sari"},
	} {
		barber.ShopID = demoShopID
		barber.IsActive = true
		barber.IsPresent = true
		barber.UpdatedAt = now
		st.AddBarber(barber)
	}
	return st
}
