package models

import "gorm.io/gorm"

// CreateDefaultPlans seeds the subscription tiers during migration
func CreateDefaultPlans(db *gorm.DB) error {
	defaultPlans := []Plan{
		{
			Name:            "free",
			Description:     "Free plan with 500 SMS per month and one seat",
			PriceCents:      0,
			MonthlySMSLimit: 500,
			MaxSeats:        1,
		},
		{
			Name:            "starter",
			Description:     "Starter plan with 5,000 SMS per month and three seats",
			PriceCents:      4900, // $49
			MonthlySMSLimit: 5000,
			MaxSeats:        3,
			DisplayPrice:    "$49",
		},
		{
			Name:            "grow",
			Description:     "Growth plan with 25,000 SMS per month and ten seats",
			PriceCents:      14900, // $149
			MonthlySMSLimit: 25000,
			MaxSeats:        10,
			DisplayPrice:    "$149",
			IsPopular:       true,
		},
	}
	for _, plan := range defaultPlans {
		if err := db.FirstOrCreate(&plan, "name = ?", plan.Name).Error; err != nil {
			return err
		}
	}
	return nil
}
