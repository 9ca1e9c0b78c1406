package bot

const (
	msgWelcome        = "Hi! This is the driver bot 🚕"
	msgMainMenu       = "Main menu"
	msgGenericFailure = "Something went wrong. Please try again later."

	msgAskPhone    = "Send your phone number: share it with the button or type it as +380..."
	msgBadPhone    = "That does not look like a phone number. Try again."
	msgAskName     = "Enter your name:"
	msgAskBrand    = "Enter your car brand and model (e.g. Skoda Octavia):"
	msgAskPlate    = "Enter your licence plate (e.g. AA1234BB):"
	msgAskPhoto    = "Send a photo of your car (a single photo)."
	msgPhotoOnly   = "Please send a photo."
	msgCanceled    = "Canceled."
	msgWizardReset = "Something went wrong. Let's start over."
	msgPhoneLost   = "Your phone number is missing or invalid. Please start registration again."
	msgSaveFailed  = "Could not save your details. Please send the photo again."
	msgRegistered  = "✅ Registration complete! You can now go online and take orders."

	msgRegisterFirst = "Please register first."
	msgFinishFirst   = "You have an active trip. Finish it first."
	msgOnline        = "🟢 You are online"
	msgOffline       = "🔴 You are offline"
	msgOnlineFailed  = "Could not go online. Please try again later."
	msgOfflineFailed = "Could not go offline. Please try again later."
	msgStatusFailed  = "Could not load your status."

	msgTripFinished  = "✅ Trip finished. Rate the passenger (1–5):"
	msgOrderMissing  = "Order not found, but you are 🟢 online"
	msgFinishFailed  = "Could not finish the order. Please try again."
	msgRatePrompt    = "Please rate the passenger from 1 to 5."
	msgRatingSaved   = "Thank you! Rating saved."
	msgRatingFailed  = "Could not save the rating. Please send it again."
	msgRatingDropped = "This trip cannot be rated. Back to the main menu."
)
