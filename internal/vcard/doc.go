// Package vcard is the fragment grammar for contact cards: it parses card
// bodies into a property bag and writes bags back as vCard 4.0 text, using
// github.com/emersion/go-vcard for the line format.
//
// # Property Mapping
//
//	Record field            vCard property
//	------------            --------------
//	email                   <group>.EMAIL;TYPE=<label>
//	category membership     <group>.CATEGORIES
//	per-email public key    <group>.KEY
//	encrypt preference      <group>.X-SDN-ENCRYPT
//	sign preference         <group>.X-SDN-SIGN
//	scheme                  <group>.X-SDN-SCHEME
//	mime preference         <group>.X-SDN-MIMETYPE
//	display name            FN
//	uid                     UID
//	phone                   TEL;TYPE=<label>
//	address                 ADR;TYPE=<label>
//	organization            ORG
//	title                   TITLE
//	nickname                NICKNAME
//	birthday                BDAY
//	gender                  GENDER
//	url                     URL;TYPE=<label>
//	note                    NOTE
//	photo                   PHOTO (data URI)
//	custom field            X-SDN-CUSTOM;TYPE=<label>
//
// Group ids are compared case-insensitively, so Item1 and ITEM1 name the
// same email.
//
// # QR Codes
//
// Unencrypted card bodies can be exchanged as QR codes:
//
//	png, err := bag.QR(vcard.DefaultQRSize)
//	bag, err := vcard.ParseQR(png)
package vcard
