package game

// SeedDistricts is the starting map. Migrations insert these rows when they
// are missing, and the shipped event catalog may only target these ids.
var SeedDistricts = []District{
	{ID: "downtown", Name: "Downtown", CrimeRate: 35, EconomyLevel: 70},
	{ID: "docks", Name: "The Docks", CrimeRate: 60, EconomyLevel: 45},
	{ID: "eastside", Name: "Eastside", CrimeRate: 50, EconomyLevel: 40},
	{ID: "uptown", Name: "Uptown", CrimeRate: 15, EconomyLevel: 85},
	{ID: "industrial", Name: "Industrial Park", CrimeRate: 45, EconomyLevel: 55},
}
