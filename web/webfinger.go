package web

import (
	"fmt"

	"palisade/db"
	"palisade/util"
)

func GetWebfinger(user string, conf *util.AppConfig) (error, string) {
	err, acc := db.GetDB().ReadAccByUsername(user)
	if err != nil {
		return err, GetWebFingerNotFound()
	}

	username := acc.Username

	return nil, fmt.Sprintf(
		`{
					"subject": "acct:%s@%s",

					"links": [
						{
							"rel": "self",
							"type": "application/activity+json",
							"href": "https://%s/users/%s"
						}
					]
				}`, username, conf.Conf.Domain,
		conf.Conf.Domain, username)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
