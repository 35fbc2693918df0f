package repair

import "techclinic/internal/models"

// SampleCustomers and SampleJobs are shown when the list fetch fails and
// sample fallback is enabled.
var (
	SampleCustomers = []models.Customer{
		{ID: "1", Name: "John Doe", MobileNumber: "1234567890"},
		{ID: "2", Name: "Jane Smith", MobileNumber: "0987654321"},
	}
	SampleJobs = []models.RepairJob{
		{ID: "1", CustomerID: "1", Status: string(StatusInProgress), Notes: "Test note", CreatedAt: "2025-07-03T10:00:00Z"},
		{ID: "2", CustomerID: "2", Status: string(StatusCompleted), Notes: "Done", CreatedAt: "2025-07-02T12:00:00Z"},
	}
)
