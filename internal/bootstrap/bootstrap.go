package bootstrap

import (
	"log"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"aibridge-backend/internal/billing"
	"aibridge-backend/internal/models"
)

// Run seeds the default organization, the platform admin, and the
// subscription plan catalog. Every step is idempotent.
func Run(db *gorm.DB) {
	if db == nil {
		log.Println("bootstrap: skipping; database not initialized")
		return
	}

	org := ensureOrganization(db)
	if org == nil {
		log.Println("bootstrap: unable to ensure default organization")
		return
	}

	ensureAdminUser(db, org)
	seedPlans(db)
}

func ensureOrganization(db *gorm.DB) *models.Organization {
	var org models.Organization
	if err := db.First(&org).Error; err == nil {
		return &org
	}

	name := strings.TrimSpace(os.Getenv("BOOTSTRAP_ORG_NAME"))
	if name == "" {
		name = "AI Bridge"
	}

	org = models.Organization{
		Name:             name,
		Slug:             slugify(name),
		SubscriptionTier: billing.TierStarter,
		Active:           true,
	}
	if err := db.Create(&org).Error; err != nil {
		log.Printf("bootstrap: failed to create organization %q: %v", name, err)
		return nil
	}

	log.Printf("bootstrap: created organization %q (ID %d)", org.Name, org.ID)
	return &org
}

func ensureAdminUser(db *gorm.DB, org *models.Organization) {
	email := strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL")))
	if email == "" {
		email = "admin@aibridge.local"
	}

	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err == nil {
		return
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		log.Printf("bootstrap: ADMIN_PASSWORD not set; skipping admin user creation")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("bootstrap: failed to hash admin password: %v", err)
		return
	}

	user = models.User{
		Username:       "admin",
		Email:          email,
		Password:       string(hashed),
		FirstName:      "System",
		LastName:       "Administrator",
		Role:           models.RoleAdmin,
		OrganizationID: &org.ID,
		Active:         true,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Printf("bootstrap: failed to create admin user %s: %v", email, err)
		return
	}

	log.Printf("bootstrap: created admin user %s", email)
}

// seedPlans mirrors the static plan catalog into the database so Stripe
// subscriptions can reference plan rows.
func seedPlans(db *gorm.DB) {
	for _, p := range billing.SubscriptionPlans {
		var existing models.Plan
		if err := db.Where("name = ?", p.Name).First(&existing).Error; err == nil {
			continue
		} else if err != gorm.ErrRecordNotFound {
			log.Printf("bootstrap: failed to check plan %s: %v", p.Name, err)
			continue
		}

		plan := models.Plan{
			Name:          p.Name,
			DisplayName:   strings.ToUpper(p.Name[:1]) + p.Name[1:],
			PriceMonthly:  p.PriceMonthly,
			IncludedItems: p.IncludedItems,
			OverageRate:   p.OverageRate,
			Active:        true,
		}
		if err := db.Create(&plan).Error; err != nil {
			log.Printf("bootstrap: failed to seed plan %s: %v", p.Name, err)
			continue
		}
		log.Printf("bootstrap: seeded plan %s", plan.Name)
	}
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
