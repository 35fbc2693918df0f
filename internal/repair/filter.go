package repair

import (
	"fmt"
	"strings"

	"techclinic/internal/models"
)

// CustomerLabel renders "{name} ({mobile_number})" for the customer with
// the given id. An unknown id renders as the id itself, an empty one as
// "Unknown".
func CustomerLabel(customers []models.Customer, id string) string {
	for _, c := range customers {
		if c.ID == id {
			return fmt.Sprintf("%s (%s)", c.Name, c.MobileNumber)
		}
	}
	if id == "" {
		return "Unknown"
	}
	return id
}

// FilterJobs keeps the jobs whose customer label or status contains search,
// case-insensitively, in their original order. An empty search keeps all.
func FilterJobs(jobs []models.RepairJob, customers []models.Customer, search string) []models.RepairJob {
	needle := strings.ToLower(search)
	out := make([]models.RepairJob, 0, len(jobs))
	for _, job := range jobs {
		if needle == "" ||
			strings.Contains(strings.ToLower(CustomerLabel(customers, job.CustomerID)), needle) ||
			strings.Contains(strings.ToLower(job.Status), needle) {
			out = append(out, job)
		}
	}
	return out
}

// JobView is a job decorated for display.
type JobView struct {
	models.RepairJob
	CustomerLabel string   `json:"customer_label"`
	Category      Category `json:"category"`
}

// Decorate resolves labels and status categories for jobs.
func Decorate(jobs []models.RepairJob, customers []models.Customer) []JobView {
	out := make([]JobView, len(jobs))
	for i, j := range jobs {
		out[i] = JobView{
			RepairJob:     j,
			CustomerLabel: CustomerLabel(customers, j.CustomerID),
			Category:      CategoryOf(j.Status),
		}
	}
	return out
}
