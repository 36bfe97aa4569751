package models

import (
	"log"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&IntegrationConnection{}, &IntegrationSyncRun{}, &IntegrationSyncError{},
		&IntegrationRawRecord{},
		&ShopCustomer{}, &ShopCustomerAddress{},
		&ShopProduct{}, &ShopProductVariant{}, &ShopProductImage{},
		&ShopInventoryItem{}, &ShopInventoryLevel{},
		&ShopOrder{}, &ShopOrderLineItem{},
		&ShopTransaction{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
