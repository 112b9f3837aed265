package models

import "time"

type Hospital struct {
	ID           int64  `gorm:"primaryKey"`
	HospitalCode string `gorm:"size:100;uniqueIndex"`
	HospitalName string `gorm:"size:255"`
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Department struct {
	ID             int64  `gorm:"primaryKey"`
	HospitalID     int64  `gorm:"index"`
	DepartmentCode string `gorm:"size:100;uniqueIndex"`
	DepartmentName string `gorm:"size:255"`
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Hospital *Hospital `gorm:"foreignKey:HospitalID"`
}

type Warehouse struct {
	ID            int64   `gorm:"primaryKey"`
	HospitalID    int64   `gorm:"index"`
	WarehouseCode string  `gorm:"size:100;uniqueIndex"`
	WarehouseName string  `gorm:"size:255"`
	Location      *string `gorm:"size:255"`
	ManagerID     *int64
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Hospital   *Hospital   `gorm:"foreignKey:HospitalID"`
	StockCards []StockCard `gorm:"foreignKey:WarehouseID"`
}

type Drug struct {
	ID          int64   `gorm:"primaryKey"`
	DrugCode    string  `gorm:"size:100;uniqueIndex"`
	DrugName    string  `gorm:"size:255"`
	GenericName *string `gorm:"size:255"`
	Unit        string  `gorm:"size:50"`
	DosageForm  *string `gorm:"size:100"`
	Strength    *string `gorm:"size:100"`
	IsControlled bool
	IsNarcotic   bool
	IsHighAlert  bool
	IsDangerous  bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time

	StockCards []StockCard `gorm:"foreignKey:DrugID"`
}
